package query

// TokenKind classifies one lexical token (spec §4.4 "Lexer").
type TokenKind int

const (
	EOF TokenKind = iota
	IDENT
	INT
	FLOAT
	STRING
	TRUE
	FALSE
	NULL

	SELECT
	FROM
	WHERE
	GROUP
	BY
	HAVING
	ORDERBY // two-word keyword, recognised with lookahead
	LIMIT
	OFFSET
	JOIN
	INNER
	LEFT
	RIGHT
	FULL
	ON
	AS
	AND
	OR
	NOT
	LIKE
	IN
	BETWEEN
	ASC
	DESC

	COUNT
	SUM
	AVG
	MIN
	MAX

	EQ
	NEQ
	LT
	LTE
	GT
	GTE

	STAR
	COMMA
	LPAREN
	RPAREN
	DOT
)

var keywords = map[string]TokenKind{
	"select":  SELECT,
	"from":    FROM,
	"where":   WHERE,
	"group":   GROUP,
	"by":      BY,
	"having":  HAVING,
	"limit":   LIMIT,
	"offset":  OFFSET,
	"join":    JOIN,
	"inner":   INNER,
	"left":    LEFT,
	"right":   RIGHT,
	"full":    FULL,
	"on":      ON,
	"as":      AS,
	"and":     AND,
	"or":      OR,
	"not":     NOT,
	"like":    LIKE,
	"in":      IN,
	"between": BETWEEN,
	"asc":     ASC,
	"desc":    DESC,
	"true":    TRUE,
	"false":   FALSE,
	"null":    NULL,
	"count":   COUNT,
	"sum":     SUM,
	"avg":     AVG,
	"min":     MIN,
	"max":     MAX,
}

// aggregateKinds maps an aggregate token to its canonical function name.
var aggregateKinds = map[TokenKind]string{
	COUNT: "COUNT",
	SUM:   "SUM",
	AVG:   "AVG",
	MIN:   "MIN",
	MAX:   "MAX",
}

// Token is one lexed unit with its source literal.
type Token struct {
	Kind    TokenKind
	Literal string
}

func (t Token) String() string {
	return t.Literal
}
