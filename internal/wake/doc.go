// Package wake turns sheet rows into wake-up requests and computes when
// their notifications fire.
//
// A row becomes a Request (or is rejected with ErrTooFewFields,
// ErrInvalidTime or ErrNoRecipients), Resolve maps its time of day onto the
// next future instant, and each request yields a wake job plus a reminder
// job whose texts come from Render.
package wake
