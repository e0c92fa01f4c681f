// Package ir provides the atomic value representation shared by every layer of
// the matching engine.
//
// This package contains value types and their canonical encodings only. All
// other internal packages import ir; ir imports nothing internal. This keeps
// fact identity (hashing, equality) independent of the network that consumes it.
//
// Key design constraints:
//   - Values are a sealed set: Symbol, String, Int, Float, Multifield, Unknown
//   - Symbols and strings are NFC normalized at construction, so equal text is
//     always byte-identical and hashes identically
//   - Int and Float never compare equal to each other (type-strict equality)
//   - Unknown is the placeholder written into slots a synthesized goal could not
//     infer; for fact identity all unknowns are interchangeable
package ir
