package expr

type node interface {
	pos() int
}

type (
	literal struct {
		at    int
		value any
	}

	name struct {
		at    int
		ident string
	}

	unary struct {
		at int
		op string
		x  node
	}

	binary struct {
		at   int
		op   string
		x, y node
	}

	boolOp struct {
		at   int
		op   string // "and" or "or"
		x, y node
	}

	// compare holds a chain such as a < b <= c.
	compare struct {
		at  int
		x   node
		ops []string
		ys  []node
	}

	conditional struct {
		at               int
		then, test, els node
	}

	attr struct {
		at   int
		x    node
		name string
	}

	index struct {
		at  int
		x   node
		idx node
	}

	slice struct {
		at            int
		x             node
		lo, hi, step node
	}

	call struct {
		at     int
		fn     node
		args   []node
		kwargs []kwarg
	}

	kwarg struct {
		name  string
		value node
	}

	listLit struct {
		at    int
		elems []node
	}

	setLit struct {
		at    int
		elems []node
	}

	dictLit struct {
		at     int
		keys   []node
		values []node
	}

	comprehension struct {
		at      int
		kind    string // "list", "set" or "dict"
		key     node   // dict only
		elem    node
		clauses []compClause
	}

	compClause struct {
		targets []string
		iter    node
		conds   []node
	}
)

func (n *literal) pos() int       { return n.at }
func (n *name) pos() int          { return n.at }
func (n *unary) pos() int         { return n.at }
func (n *binary) pos() int        { return n.at }
func (n *boolOp) pos() int        { return n.at }
func (n *compare) pos() int       { return n.at }
func (n *conditional) pos() int   { return n.at }
func (n *attr) pos() int          { return n.at }
func (n *index) pos() int         { return n.at }
func (n *slice) pos() int         { return n.at }
func (n *call) pos() int          { return n.at }
func (n *listLit) pos() int       { return n.at }
func (n *setLit) pos() int        { return n.at }
func (n *dictLit) pos() int       { return n.at }
func (n *comprehension) pos() int { return n.at }
