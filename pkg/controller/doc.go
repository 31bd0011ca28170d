// Package controller drives one discussion session end to end: it owns the
// session lifecycle, the main decision loop, the lightweight monitor loop,
// the error budget, and the outbound event stream.
//
// Ownership model:
//   - The controller exclusively owns session lifecycle and termination.
//   - The discussion context owns the turn log; the controller appends to it
//     but never mutates turns.
//   - Content generation, turn broadcast, and turn persistence are external
//     collaborators; their failures are logged and absorbed, never allowed
//     to crash a cycle.
package controller
