// Package handler implements the artifact service's HTTP endpoints.
//
// Artifact bodies travel raw with their Info in X-Artifact-* headers. Every
// other response, errors included, uses the JSON Response envelope.
package handler
