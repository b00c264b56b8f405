package params

import (
	"strconv"

	"github.com/e7canasta/sci-capture/internal/sdk"
)

// UniversalParam names a generic hardware parameter exposed as a property
// without dedicated handling.
type UniversalParam struct {
	Name string
	ID   sdk.ParamID
}

// Universal lists the generic parameters queried at open. Parameters the
// hardware does not support are skipped.
var Universal = []UniversalParam{
	{"Offset", sdk.ParamADCOffset},
	{"ClearCycles", sdk.ParamClearCycles},
	{"PMode", sdk.ParamPMode},
	{"ClearMode", sdk.ParamClearMode},
	{"PreampDelay", sdk.ParamPreampDelay},
	// preamp is off during exposures shorter than this
	{"PreampOffLimit", sdk.ParamPreampOffControl},
	{"MaskLines", sdk.ParamPreMask},
	{"PrescanPixels", sdk.ParamPrescan},
	{"PostscanPixels", sdk.ParamPostscan},
	{"ShutterMode", sdk.ParamShutterOpenMode},
	{"ShutterOpenDelay", sdk.ParamShutterOpenDelay},
	{"ShutterCloseDelay", sdk.ParamShutterCloseDelay},
}

// smallRange is the widest integer range offered as a list of choices.
const smallRange = 10

// IntegerDomain picks how an integer parameter in [lo, hi] is offered: a
// bounded Numeric for wide ranges, an Enumerated list of every value otherwise.
func IntegerDomain(lo, hi int64) (Kind, []string) {
	if hi-lo > smallRange {
		return Numeric, nil
	}
	var choices []string
	for v := lo; v <= hi; v++ {
		choices = append(choices, strconv.FormatInt(v, 10))
	}
	return Enumerated, choices
}
