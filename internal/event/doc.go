// Package event defines the typed pipeline events and their JSON wire form.
//
// Every event carries a common Header (ids, tenancy, timestamp) and one
// concrete payload per subject. The envelope carries a type discriminator;
// decoding ignores unknown fields, and any schema violation surfaces as a
// *ValidationError so carriers can dead-letter it without retrying.
package event
