package models

// All lists every model managed by the schema migration, in
// dependency order.
var All = []interface{}{
	&Test{},
	&Candidate{},
	&TestCandidate{},
	&Instance{},
	&Report{},
}
