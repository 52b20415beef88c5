package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSynthesizeTitle(t *testing.T) {
	now := time.Date(2026, time.March, 5, 14, 30, 0, 0, time.UTC)

	title := synthesizeTitle("How many orders were placed?", now)
	assert.Equal(t, "How many orders were placed? (Mar 5 14:30)", title)

	long := strings.Repeat("revenue by region ", 10)
	title = synthesizeTitle(long, now)
	assert.LessOrEqual(t, len(title), maxTitleLen)
	assert.True(t, strings.HasSuffix(title, "(Mar 5 14:30)"))
}
