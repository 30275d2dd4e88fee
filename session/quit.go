package session

import "math/rand/v2"

// quitMessages is sampled once per Connect; the odd one out is rare on
// purpose.
var quitMessages = func() []string {
	msgs := make([]string, 0, 28)
	for range 27 {
		msgs = append(msgs, "Requested via Web API.")
	}
	return append(msgs, "Gleich kommt Abdul mit Klappstuhl und Aladin mit Waschmaschin")
}()

func pickQuitMessage() string {
	return quitMessages[rand.IntN(len(quitMessages))]
}
