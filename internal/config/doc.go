// Package config loads the dcstats run configuration.
//
// A config file is YAML, JSON or TOML, chosen by extension (.yaml/.yml,
// .json, .toml). Every file is checked against the embedded CUE schema
// before it is decoded, so unknown keys and wrongly typed values are
// reported with their path:
//
//	input_files:
//	  "population*.csv":
//	    format: wide
//	    provenance: Census
//	variables:
//	  Count_Person:
//	    name: Population
//	    group: Demographics/Population
//	sources:
//	  Census Bureau:
//	    url: https://census.gov
//	    provenances:
//	      Census: https://census.gov/acs
//
// Every failure is marked failure.ErrConfig.
package config
