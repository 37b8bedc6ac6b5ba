// Package extension models an extension unit and its manifest descriptor.
package extension
