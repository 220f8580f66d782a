// Package progress tracks concurrent upload jobs and periodically renders a snapshot.
//
// A Tracker owns a table of jobs keyed by label. Uploads report into it through
// Job handles (usually via a Reader wrapping the request body), and a background
// ticker prints the table whenever something changed since the last render.
package progress
