package envelope

import (
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/model"
)

// FlagUserKeyword is the IMAP keyword that carries model.FlagUser.
const FlagUserKeyword imap.Flag = "$User"

var imapFlags = []struct {
	bit  model.Flag
	flag imap.Flag
}{
	{model.FlagAnswered, imap.FlagAnswered},
	{model.FlagDeleted, imap.FlagDeleted},
	{model.FlagFlagged, imap.FlagFlagged},
	{model.FlagSeen, imap.FlagSeen},
	{model.FlagUser, FlagUserKeyword},
}

// FlagsFromIMAP maps the flags reported by the server to a bitmask.
// Flags outside the five known ones are ignored.
func FlagsFromIMAP(flags []imap.Flag) model.Flag {
	var out model.Flag
	for _, f := range flags {
		for _, m := range imapFlags {
			if strings.EqualFold(string(f), string(m.flag)) {
				out |= m.bit
			}
		}
	}
	return out
}

// FlagToIMAP returns the IMAP flag for a single bit.
func FlagToIMAP(bit model.Flag) (imap.Flag, bool) {
	for _, m := range imapFlags {
		if m.bit == bit {
			return m.flag, true
		}
	}
	return "", false
}

// FlagsToIMAP lists the IMAP flags for every bit set in mask.
func FlagsToIMAP(mask model.Flag) []imap.Flag {
	var out []imap.Flag
	for _, m := range imapFlags {
		if mask.Has(m.bit) {
			out = append(out, m.flag)
		}
	}
	return out
}
