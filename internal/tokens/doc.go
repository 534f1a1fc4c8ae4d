// Package tokens estimates and enforces token budgets for completion requests.
//
// Estimation is a strategy: CharEstimator divides the rune count by a fixed
// ratio and TiktokenEstimator counts cl100k_base tokens. Pruning never fails on
// overflow. History loses its oldest messages first, retrieved context loses its
// least relevant chunks first, and PrepareContextForChat always returns a payload
// whose breakdown total is within the model's available limit.
package tokens
