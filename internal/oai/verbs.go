package oai

import (
	"net/url"
	"sort"

	"go.uber.org/multierr"
)

// Verb is an OAI-PMH request verb.
type Verb string

const (
	VerbIdentify            Verb = "Identify"
	VerbGetRecord           Verb = "GetRecord"
	VerbListIdentifiers     Verb = "ListIdentifiers"
	VerbListMetadataFormats Verb = "ListMetadataFormats"
	VerbListRecords         Verb = "ListRecords"
	VerbListSets            Verb = "ListSets"
)

// Request argument names.
const (
	argVerb            = "verb"
	argIdentifier      = "identifier"
	argMetadataPrefix  = "metadataPrefix"
	argSet             = "set"
	argFrom            = "from"
	argUntil           = "until"
	argResumptionToken = "resumptionToken"
)

type argumentRule struct {
	required []string
	optional []string
	// exclusive, when present, replaces the required arguments; other
	// arguments are then accepted and ignored.
	exclusive string
}

var argumentRules = map[Verb]argumentRule{
	VerbIdentify: {},
	VerbGetRecord: {
		required: []string{argIdentifier, argMetadataPrefix},
	},
	VerbListIdentifiers: {
		required:  []string{argMetadataPrefix},
		optional:  []string{argSet, argFrom, argUntil},
		exclusive: argResumptionToken,
	},
	VerbListRecords: {
		required:  []string{argMetadataPrefix},
		optional:  []string{argSet, argFrom, argUntil},
		exclusive: argResumptionToken,
	},
	VerbListMetadataFormats: {
		optional: []string{argIdentifier},
	},
	VerbListSets: {
		optional: []string{argResumptionToken},
	},
}

func (r argumentRule) allows(name string) bool {
	if name == r.exclusive {
		return true
	}
	for _, list := range [][]string{r.required, r.optional} {
		for _, n := range list {
			if n == name {
				return true
			}
		}
	}
	return false
}

// parseVerb validates the verb argument and the argument set of that verb.
func parseVerb(args url.Values) (Verb, error) {
	values := args[argVerb]
	switch {
	case len(values) == 0 || values[0] == "":
		return "", protocolErrorf(CodeBadVerb, "verb argument is missing")
	case len(values) > 1:
		return "", protocolErrorf(CodeBadVerb, "verb argument is repeated")
	}

	verb := Verb(values[0])
	rule, ok := argumentRules[verb]
	if !ok {
		return "", protocolErrorf(CodeBadVerb, "%q is not a legal OAI-PMH verb", values[0])
	}

	names := make([]string, 0, len(args))
	for name := range args {
		if name != argVerb {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if !rule.allows(name) {
			errs = multierr.Append(errs, protocolErrorf(CodeBadArgument, "%q is not a legal argument for %s", name, verb))
			continue
		}
		if len(args[name]) > 1 {
			errs = multierr.Append(errs, protocolErrorf(CodeBadArgument, "argument %q is repeated", name))
		}
	}

	if rule.exclusive == "" || args.Get(rule.exclusive) == "" {
		for _, name := range rule.required {
			if args.Get(name) == "" {
				errs = multierr.Append(errs, protocolErrorf(CodeBadArgument, "missing required argument %q", name))
			}
		}
	}

	if errs != nil {
		return "", errs
	}
	return verb, nil
}
