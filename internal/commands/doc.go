// Package commands is the chat command layer: it parses "/command" messages,
// resolves time expressions in the caller's timezone and maps them onto the
// alarm service.
//
// Time expressions accept clock times ("15:30", "3pm"), "today"/"tomorrow"
// prefixes, explicit dates, relative offsets ("in 45m") and RFC3339. A clock
// time without a date that is not after now is rolled forward one day.
package commands
