// Package types defines the shared types used across all Talkwire packages.
//
// These types form the lingua franca between the streaming transcription
// providers, the relay, and the wire layer. They are intentionally minimal;
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// Fragment is a unit of transcribed speech emitted by a streaming STT session.
// Interim fragments are provisional and may be superseded by later fragments
// covering the same audio; final fragments are committed and form the
// authoritative transcript of a call.
type Fragment struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (committed) or interim
	// (provisional) fragment.
	IsFinal bool

	// Seq is the monotonic position of a final fragment within its call.
	// Assigned by the relay; zero for fragments straight off a provider.
	Seq int

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// JoinFinal joins the texts of the given fragments with single spaces, in
// slice order. Callers are expected to pass final fragments already ordered
// by Seq.
func JoinFinal(frags []Fragment) string {
	switch len(frags) {
	case 0:
		return ""
	case 1:
		return frags[0].Text
	}
	n := len(frags) - 1
	for _, f := range frags {
		n += len(f.Text)
	}
	b := make([]byte, 0, n)
	for i, f := range frags {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, f.Text...)
	}
	return string(b)
}
