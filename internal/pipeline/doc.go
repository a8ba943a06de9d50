// Package pipeline assembles the fixed three-stage note pipeline: images are
// extracted, confirmed extractions are turned into protonotes, and confirmed
// protonotes are exported. Stages, image sources and queue lifetimes share
// one supervised scope.
package pipeline
