package rdf

const (
	XSDNamespace = "http://www.w3.org/2001/XMLSchema#"
	RDFNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

// Helper variables for common datatypes
var (
	XSDString             = NewNamedNode(XSDNamespace + "string")
	XSDBoolean            = NewNamedNode(XSDNamespace + "boolean")
	XSDInteger            = NewNamedNode(XSDNamespace + "integer")
	XSDInt                = NewNamedNode(XSDNamespace + "int")
	XSDLong               = NewNamedNode(XSDNamespace + "long")
	XSDShort              = NewNamedNode(XSDNamespace + "short")
	XSDByte               = NewNamedNode(XSDNamespace + "byte")
	XSDNonNegativeInteger = NewNamedNode(XSDNamespace + "nonNegativeInteger")
	XSDPositiveInteger    = NewNamedNode(XSDNamespace + "positiveInteger")
	XSDNonPositiveInteger = NewNamedNode(XSDNamespace + "nonPositiveInteger")
	XSDNegativeInteger    = NewNamedNode(XSDNamespace + "negativeInteger")
	XSDUnsignedLong       = NewNamedNode(XSDNamespace + "unsignedLong")
	XSDUnsignedInt        = NewNamedNode(XSDNamespace + "unsignedInt")
	XSDUnsignedShort      = NewNamedNode(XSDNamespace + "unsignedShort")
	XSDUnsignedByte       = NewNamedNode(XSDNamespace + "unsignedByte")
	XSDDecimal            = NewNamedNode(XSDNamespace + "decimal")
	XSDFloat              = NewNamedNode(XSDNamespace + "float")
	XSDDouble             = NewNamedNode(XSDNamespace + "double")
	XSDDateTime           = NewNamedNode(XSDNamespace + "dateTime")
	XSDDate               = NewNamedNode(XSDNamespace + "date")
	XSDTime               = NewNamedNode(XSDNamespace + "time")
	XSDDuration           = NewNamedNode(XSDNamespace + "duration")
	XSDDayTimeDuration    = NewNamedNode(XSDNamespace + "dayTimeDuration")
	XSDYearMonthDuration  = NewNamedNode(XSDNamespace + "yearMonthDuration")

	RDFLangString = NewNamedNode(RDFNamespace + "langString")
	RDFType       = NewNamedNode(RDFNamespace + "type")
	RDFFirst      = NewNamedNode(RDFNamespace + "first")
	RDFRest       = NewNamedNode(RDFNamespace + "rest")
	RDFNil        = NewNamedNode(RDFNamespace + "nil")
)
