// Package sessions bounds the memory held by live conversations. The store
// caps how many provider sessions stay resident and reclaims idle ones by
// age and by least-recent use.
package sessions
