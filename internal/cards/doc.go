// Package cards holds the domain model that flows through the pipeline:
// images, the extractions found in them, the protonotes generated from
// confirmed extractions, and the Service contract that produces each of them
// as an operation.
package cards
