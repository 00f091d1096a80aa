// Package feedback defines the domain model shared by the analytics core:
// feedback records, the trained correlation and feature-importance result
// sets, and the training job status record.
//
// # Sections
//
// Every completed record carries a 1..5 score for each of the five fixed
// sections returned by Sections(). Draft records may be partial and are
// ignored by training and aggregation.
//
// # Results
//
// A ResultSet is produced by one successful training run and is always
// replaced as a whole. Readers either see the previous set or the new one.
package feedback
