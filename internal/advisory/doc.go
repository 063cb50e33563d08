// Package advisory holds the scoring rules behind the advisory features:
// expert auto-assignment, crop recommendations, weather crop alerts and
// mandi price trends. Everything here is a pure function of its inputs.
package advisory
