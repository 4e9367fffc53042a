// Package testutil provides test fixtures for the dpop-oauth library,
// chiefly generators for DPoP-bound token records.
package testutil
