package utils

import (
	"expvar"
)

var AnalysesStarted = expvar.NewInt("analyses_started_total")
var AnalysesSucceeded = expvar.NewInt("analyses_succeeded_total")
var AnalysesFailed = expvar.NewInt("analyses_failed_total")
var AnalysesTimedOut = expvar.NewInt("analyses_timed_out_total")
var AnalyzersDeleted = expvar.NewInt("analyzers_deleted_total")
var AnalyzerDeleteFailures = expvar.NewInt("analyzer_delete_failures_total")
