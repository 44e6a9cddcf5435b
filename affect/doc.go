// Package affect tracks the conversation's emotional tone.
//
// A Scorer turns each utterance into a distribution over the fixed emotion
// vocabulary (core.Labels). The Aggregator keeps the recent distributions
// and blends them into one current mood: newer samples count more
// (exponential decay over wall-clock age) and the user's own samples count
// more than the companion's replies.
//
// The mood picks the reply's voice profile and avatar expression.
package affect
