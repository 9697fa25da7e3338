// Package internal holds helpers private to lockguard: token generation here,
// event dispatch under audit/.
//
// # What this package must NOT do
//
//   - Export types that appear in the public lockguard API.
//   - Import lockguard.
package internal
