// Package api provides the exchange REST client used for book snapshots,
// recent trades and server time.
//
// REST endpoints:
//   - GET /api/v3/depth?symbol=&limit=   order book snapshot with lastUpdateId
//   - GET /api/v3/trades?symbol=&limit=  most recent public trades
//   - GET /api/v3/time                   exchange server time
//
// Base URL: https://api.mexc.com
package api
