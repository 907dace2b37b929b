package pipeline

import (
	"fmt"

	"github.com/querypilot/querypilot/pkg/sqlcheck"
)

// Validate runs the local checks over a candidate statement in fixed
// order: syntax, then write keywords, then the SELECT/WITH prefix,
// then table references against the known table set. The first failure
// wins; its detail is phrased for the repair prompt. The prefix check
// runs after the keyword check so a bare write statement is rejected
// as destructive, not as malformed.
func Validate(sqlText string, knownTables []string) *ValidationError {
	if checkErr := sqlcheck.CheckSyntax(sqlText); checkErr != nil {
		return &ValidationError{Reason: string(checkErr.Reason), Detail: checkErr.Detail}
	}
	if checkErr := sqlcheck.CheckReadOnly(sqlText); checkErr != nil {
		return &ValidationError{Reason: string(checkErr.Reason), Detail: checkErr.Detail}
	}
	if checkErr := sqlcheck.CheckSelectPrefix(sqlText); checkErr != nil {
		return &ValidationError{Reason: string(checkErr.Reason), Detail: checkErr.Detail}
	}

	known := make(map[string]struct{}, len(knownTables))
	for _, name := range knownTables {
		known[name] = struct{}{}
	}
	for _, table := range sqlcheck.Tables(sqlText) {
		if _, ok := known[table]; !ok {
			return &ValidationError{
				Reason: "unknown_table",
				Detail: fmt.Sprintf("table %q does not exist in this database", table),
			}
		}
	}
	return nil
}
