package entity

// Known traits the downstream model builder understands. The core never
// interprets these beyond the entity:id trait used to derive a UEID; they
// are carried opaquely and exist here only so collector plugins share one
// vocabulary instead of inventing their own strings.
const (
	TraitID       = "entity:id"
	TraitUEID     = "entity:ueid"
	TraitIndex    = "index"
	TraitCounter  = "metric:counter"
	TraitGauge    = "metric:gauge"
	TraitBytes    = "unit:bytes"
	TraitSeconds  = "unit:seconds"
	TraitPercent  = "unit:percent"
	TraitDuration = "time:duration"
	TraitRFC3339  = "time:rfc3339"
	TraitChrono   = "chrono:rfc3339"
	TraitURI      = "uri"
	TraitIPv4     = "ipaddr:v4"
	TraitIPv6     = "ipaddr:v6"
)
