// Package stages implements the five document pipeline stages: render fans a
// source PDF out into page images, extract recognizes text, synthesize and
// transcode produce per-page audio, and assemble fans the pages back in to
// write the workflow manifest.
//
// Every stage follows write-then-announce: the result blob is committed to
// the store before the successor event referencing it is published. Stages
// mint a fresh result key per attempt, so a retried delivery never collides
// with a half-written blob from a previous attempt.
package stages
