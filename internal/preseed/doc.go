// Package preseed resolves and stores per-client installer documents.
//
// Every client may own a preseed.cfg and a late_command, optionally per
// distribution series. Reads fall back from the most specific folder to the
// global defaults at the root of the tree:
//
//	ip/<shared>/<series>/<file>   share code + series
//	ip/<shared>/<file>            share code (when the series is supported)
//	ip/<client>/<series>/<file>   requesting client + series
//	ip/<shared>/<file>            share code
//	ip/<client>/<file>            requesting client
//	<file>                        global default
package preseed
