// Package httputil holds the JSON response helpers every handler writes
// through, so success bodies and error envelopes look the same on every
// route.
package httputil
