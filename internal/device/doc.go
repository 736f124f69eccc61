// Package device defines the data model shared between the BLE session, the
// platform adapters and the display layer.
//
// It contains:
//   - Peripheral identities and manual-select candidates
//   - The Adapter boundary consumed by the session
//   - The tagged-union Event stream delivered by adapters
//   - The error taxonomy (adapter, connection, discovery, not-found)
//   - UUID normalization shared by profiles and adapters
package device
