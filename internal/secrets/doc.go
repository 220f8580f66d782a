// Package secrets resolves the token references found in the mirror configuration.
//
// A reference is one of:
//
//	env:NAME        the value of the environment variable NAME
//	awssm:SECRET_ID the value of an AWS Secrets Manager secret
//	anything else   the literal value
//
// Secret values are never logged. Only reference kinds and secret ids appear in log lines.
package secrets
