package param

import (
	"flag"
	"testing"
	"time"

	. "github.com/anthonybishopric/gotcha"
)

func TestParseFlagsSetsDeclaredParams(t *testing.T) {
	var f flag.FlagSet
	size := f.Int("orphan_queue_warn_size", 128, "")
	prune := f.Duration("prune_after", time.Hour, "")

	err := ParseFlags(&f, Values{
		"orphan_queue_warn_size": "5",
		"prune_after":            "90m",
	})
	Assert(t).IsNil(err, "valid params should parse")
	Assert(t).AreEqual(5, *size, "int param should have been set")
	Assert(t).AreEqual(90*time.Minute, *prune, "duration param should have been set")
}

func TestParseFlagsRejectsUnknownParams(t *testing.T) {
	var f flag.FlagSet
	f.Int("orphan_queue_warn_size", 128, "")

	err := ParseFlags(&f, Values{"no_such_param": "1"})
	Assert(t).IsNotNil(err, "unknown params should be rejected")
}

func TestParseFlagsRejectsMalformedValues(t *testing.T) {
	var f flag.FlagSet
	f.Int("orphan_queue_warn_size", 128, "")

	err := ParseFlags(&f, Values{"orphan_queue_warn_size": "lots"})
	Assert(t).IsNotNil(err, "malformed values should be rejected")
}
