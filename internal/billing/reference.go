package billing

import (
	"strings"

	"guied/internal/types"
)

// referenceSeparator joins the subscriber and plan halves of a reference token.
const referenceSeparator = "|"

// EncodeReference builds the token threaded through the provider as the
// checkout's external reference: "{subscriber}|{plan}".
func EncodeReference(subscriberID string, plan types.Plan) string {
	return subscriberID + referenceSeparator + string(plan)
}

// DecodeReference splits a reference token on the first separator.
//
// Either half may be absent. A subscriber half that is not a canonical
// identity invalidates the whole token, so both outputs come back empty and
// ok is false. Anything after the first separator, further separators
// included, is returned as the plan half verbatim.
func DecodeReference(token string) (subscriberID, plan string, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", false
	}

	sub, rest, _ := strings.Cut(token, referenceSeparator)
	if sub != "" && !ValidSubscriberID(sub) {
		return "", "", false
	}
	if sub == "" && rest == "" {
		return "", "", false
	}
	return sub, rest, true
}
