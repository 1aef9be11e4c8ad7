package id

import "fmt"

// Prefix tags an Id with the entity type it identifies.
type Prefix string

const (
	PrefixCommonModel               Prefix = "cm"
	PrefixCommonEnum                Prefix = "ce"
	PrefixConnection                Prefix = "conn"
	PrefixConnectionDefinition      Prefix = "conn_def"
	PrefixConnectionModelDefinition Prefix = "conn_mod_def"
	PrefixConnectionModelSchema     Prefix = "conn_mod_sch"
	PrefixConnectionOAuthDefinition Prefix = "conn_oauth_def"
	PrefixCursor                    Prefix = "crs"
	PrefixEmbedToken                Prefix = "embed_tk"
	PrefixSessionID                 Prefix = "session_id"
	PrefixEvent                     Prefix = "evt"
	PrefixEventAccess               Prefix = "evt_ac"
	PrefixEventDependency           Prefix = "evt_dep"
	PrefixEventKey                  Prefix = "evt_k"
	PrefixJob                       Prefix = "job"
	PrefixJobStage                  Prefix = "job_stg"
	PrefixLLMMessage                Prefix = "llm_msg"
	PrefixLink                      Prefix = "ln"
	PrefixLinkToken                 Prefix = "ln_tk"
	PrefixLog                       Prefix = "log"
	PrefixLogTracking               Prefix = "log_trk"
	PrefixPipeline                  Prefix = "pipe"
	PrefixPlatform                  Prefix = "plf"
	PrefixPlatformPage              Prefix = "plf_pg"
	PrefixQueue                     Prefix = "q"
	PrefixSettings                  Prefix = "st"
	PrefixTransaction               Prefix = "tx"
	PrefixUnitTest                  Prefix = "ut"
)

var knownPrefixes = map[Prefix]struct{}{
	PrefixCommonModel:               {},
	PrefixCommonEnum:                {},
	PrefixConnection:                {},
	PrefixConnectionDefinition:      {},
	PrefixConnectionModelDefinition: {},
	PrefixConnectionModelSchema:     {},
	PrefixConnectionOAuthDefinition: {},
	PrefixCursor:                    {},
	PrefixEmbedToken:                {},
	PrefixSessionID:                 {},
	PrefixEvent:                     {},
	PrefixEventAccess:               {},
	PrefixEventDependency:           {},
	PrefixEventKey:                  {},
	PrefixJob:                       {},
	PrefixJobStage:                  {},
	PrefixLLMMessage:                {},
	PrefixLink:                      {},
	PrefixLinkToken:                 {},
	PrefixLog:                       {},
	PrefixLogTracking:               {},
	PrefixPipeline:                  {},
	PrefixPlatform:                  {},
	PrefixPlatformPage:              {},
	PrefixQueue:                     {},
	PrefixSettings:                  {},
	PrefixTransaction:               {},
	PrefixUnitTest:                  {},
}

// ParsePrefix validates a prefix string against the known set.
func ParsePrefix(s string) (Prefix, error) {
	p := Prefix(s)
	if _, ok := knownPrefixes[p]; !ok {
		return "", fmt.Errorf("invalid id prefix: %q", s)
	}
	return p, nil
}

func (p Prefix) String() string { return string(p) }
