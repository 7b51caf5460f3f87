package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOutputAppendAndPage covers basic append and offset pagination.
func TestOutputAppendAndPage(t *testing.T) {
	buf := NewOutputBuffer(1024 * 1024)

	for i := 1; i <= 5; i++ {
		buf.Append("stdout", fmt.Sprintf("line %d\n", i))
	}

	page := buf.GetPage(0, 3, "")
	require.Len(t, page.Lines, 3)
	require.Equal(t, 5, page.Total)
	require.True(t, page.HasMore)
	require.False(t, page.Truncated)
	require.Equal(t, 1, page.Lines[0].LineNumber)
	require.Equal(t, "line 1\n", page.Lines[0].Content)

	rest := buf.GetPage(3, 10, "")
	require.Len(t, rest.Lines, 2)
	require.False(t, rest.HasMore)
}

// TestOutputCategoryFilter verifies category-filtered pagination.
func TestOutputCategoryFilter(t *testing.T) {
	buf := NewOutputBuffer(1024 * 1024)
	buf.Append("stdout", "out 1\n")
	buf.Append("stderr", "err 1\n")
	buf.Append("stdout", "out 2\n")

	page := buf.GetPage(0, 10, "stderr")
	require.Len(t, page.Lines, 1)
	require.Equal(t, "err 1\n", page.Lines[0].Content)
	require.Equal(t, 1, page.Total)
}

// TestOutputEviction mirrors the S6 scenario: a tiny budget, many
// appends, sticky truncation, and surviving entries holding the highest
// line numbers.
func TestOutputEviction(t *testing.T) {
	buf := NewOutputBuffer(50)

	for i := 0; i < 10; i++ {
		buf.Append("stdout", "0123456789") // 10 bytes each
	}

	require.LessOrEqual(t, buf.Size(), 50)
	require.Less(t, buf.TotalLines(), 10)
	require.Greater(t, buf.DroppedLines(), 0)

	page := buf.GetPage(0, 100, "")
	require.True(t, page.Truncated)
	require.Greater(t, page.DroppedLines, 0)

	// The survivors are the most recent entries: line numbers run
	// contiguously up to the last assigned number.
	last := 10
	for i := range page.Lines {
		want := last - len(page.Lines) + 1 + i
		require.Equal(t, want, page.Lines[i].LineNumber)
	}
}

// TestOutputOversizedEntry verifies an entry larger than the whole budget
// drains the FIFO and is stored alone.
func TestOutputOversizedEntry(t *testing.T) {
	buf := NewOutputBuffer(20)
	buf.Append("stdout", "aaaa")
	buf.Append("stdout", "this line is far larger than the budget")

	require.Equal(t, 1, buf.TotalLines())
	require.Greater(t, buf.DroppedLines(), 0)

	page := buf.GetPage(0, 10, "")
	require.Len(t, page.Lines, 1)
	require.Equal(t, "this line is far larger than the budget",
		page.Lines[0].Content)
	require.Equal(t, 2, page.Lines[0].LineNumber)
}

// TestOutputGetSince verifies cursor-based pagination never renumbers.
func TestOutputGetSince(t *testing.T) {
	buf := NewOutputBuffer(1024 * 1024)
	for i := 1; i <= 6; i++ {
		buf.Append("stdout", fmt.Sprintf("line %d\n", i))
	}

	page := buf.GetSince(4, 10)
	require.Len(t, page.Lines, 2)
	require.Equal(t, 5, page.Lines[0].LineNumber)
	require.Equal(t, 6, page.Lines[1].LineNumber)
	require.False(t, page.HasMore)

	limited := buf.GetSince(0, 2)
	require.Len(t, limited.Lines, 2)
	require.True(t, limited.HasMore)
}

// TestOutputLineNumbersMonotone verifies numbering survives eviction and
// clear resets it.
func TestOutputLineNumbersMonotone(t *testing.T) {
	buf := NewOutputBuffer(30)
	for i := 0; i < 8; i++ {
		buf.Append("stdout", "0123456789")
	}
	require.Equal(t, 8, buf.LastLineNumber())

	buf.Clear()
	require.Equal(t, 0, buf.LastLineNumber())
	require.Equal(t, 0, buf.TotalLines())
	require.Equal(t, 0, buf.DroppedLines())
}
