// Package wire decodes exchange feed frames into typed messages.
//
// Binary frames are protobuf push envelopes (depth deltas, limit-depth
// snapshots, deals). Text frames are JSON control messages (subscription acks,
// PING/PONG). Every frame decodes to exactly one Message variant; callers
// switch over the variant set.
package wire
