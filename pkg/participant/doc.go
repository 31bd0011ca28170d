// Package participant defines participant identity, the content-generation
// capability boundary, and the registry handed to the scheduling engine at
// session start. The scheduler depends only on the Generator interface, never
// on concrete participant types.
package participant
