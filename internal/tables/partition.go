package tables

// PartitionColumns are appended to every table as its partition spec. They are
// never part of the ordinary column list.
var PartitionColumns = []string{
	"year string",
	"month string",
	"day string",
	"hour string",
}
