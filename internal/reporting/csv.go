package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders expression statistics as a CSV string.
func RenderCSV(stats []ExprStatRow) string {
	var sb strings.Builder

	sb.WriteString("expr_id,samples,na_count,first_index,last_index,min,max,mean\n")
	for _, s := range stats {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%d,%.6f,%.6f,%.6f\n",
			s.ExprID,
			s.Samples,
			s.NACount,
			s.FirstIndex,
			s.LastIndex,
			s.Min,
			s.Max,
			s.Mean,
		))
	}

	return sb.String()
}
