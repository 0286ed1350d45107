// Package gap tracks missing sequence ranges per (symbol, venue).
//
// The detector consumes the live sequence stream and the persisted
// watermark at startup, and emits a Gap whenever the sequence advances
// by more than one. Overlapping or adjacent gaps coalesce into one.
// A gap closes when the reconciler confirms full coverage of its range;
// a gap the historical source cannot produce is marked irreparable and
// stays visible in the watermark for operators.
package gap
