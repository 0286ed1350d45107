// Package symbols validates configured symbols against the venue's
// published trading rules at startup. An unknown or untradable symbol
// is a configuration error and fails the process before any capture
// task starts, so a misconfigured symbol is never silently uncaptured.
package symbols
