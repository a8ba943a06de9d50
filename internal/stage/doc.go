// Package stage implements the pipeline stage processor. A Processor runs two
// duties under one cancellation scope: ingestion pops inbound items, starts a
// domain operation for each and accumulates the results, while release waits
// for a confirmation and forwards the selected results as one batch. Terminal
// runs ingestion only, for the last stage whose results leave the pipeline.
package stage
