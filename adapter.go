package strata

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
)

// adapter 将（语句类别，层级元数据）翻译成可执行的 Command
// 语句文本是元数据的纯函数，所以按 (表, 类别) 做 LRU 缓存
type adapter struct {
	dialect  Dialect
	settings Settings
	cmds     *lru.Cache
}

// statement 缓存条目：文本 + 参数对应的列顺序
type statement struct {
	text   string
	fields []*model.Field
}

const cmdCacheSize = 256

func newAdapter(d Dialect, s Settings) (*adapter, error) {
	if d == nil {
		return nil, errs.ErrDialectUnset
	}
	c, err := lru.New(cmdCacheSize)
	if err != nil {
		return nil, err
	}
	return &adapter{
		dialect:  d,
		settings: s,
		cmds:     c,
	}, nil
}

func (a *adapter) cached(key string, build func() *statement) *statement {
	if v, ok := a.cmds.Get(key); ok {
		return v.(*statement)
	}
	st := build()
	a.cmds.Add(key, st)
	return st
}

func (a *adapter) command(kind Kind, m *model.Model, text string) *Command {
	cmd := &Command{
		Text:    text,
		Kind:    kind,
		Timeout: a.settings.CommandTimeout,
	}
	switch kind {
	case KindSelect, KindSelectMany, KindExists, KindUnique:
		cmd.DirtyReads = m.DirtyReads
	}
	return cmd
}

// insert 该层级的插入语句，DB 生成的列不出现在列清单里
func (a *adapter) insert(m *model.Model) (*Command, []*model.Field) {
	st := a.cached(m.Type.String()+"|insert", func() *statement {
		b := newBuilder(a.dialect, m)
		fields := make([]*model.Field, 0, len(m.Fields))
		for _, f := range m.Fields {
			if f.Generated || f.Out {
				continue
			}
			fields = append(fields, f)
		}

		b.sb.WriteString("INSERT INTO ")
		b.writeIdent(m.TableName)
		b.sb.WriteString(" (")
		for i, f := range fields {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			b.writeIdent(f.ColName)
		}
		b.sb.WriteString(") VALUES (")
		for i := range fields {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			b.sb.WriteByte('?')
		}
		b.sb.WriteString(");")
		return &statement{text: b.sb.String(), fields: fields}
	})
	return a.command(KindInsert, m, st.text), st.fields
}

// update 该层级的更新语句
// 全部列都是主键时没有可更新内容，fields 返回 nil
func (a *adapter) update(m *model.Model) (*Command, []*model.Field) {
	st := a.cached(m.Type.String()+"|update", func() *statement {
		sets := make([]*model.Field, 0, len(m.Fields))
		for _, f := range m.Fields {
			if f.IsPrimaryKey || f.Generated || f.Out {
				continue
			}
			sets = append(sets, f)
		}
		if len(sets) == 0 {
			return &statement{}
		}

		b := newBuilder(a.dialect, m)
		b.sb.WriteString("UPDATE ")
		b.writeIdent(m.TableName)
		b.sb.WriteString(" SET ")
		for i, f := range sets {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			b.writeIdent(f.ColName)
			b.sb.WriteString("=?")
		}
		b.sb.WriteString(" WHERE ")
		b.writeKeyPredicate(m)
		b.sb.WriteByte(';')

		fields := append(sets, m.PrimaryKeys...)
		return &statement{text: b.sb.String(), fields: fields}
	})
	if st.text == "" {
		return nil, nil
	}
	return a.command(KindUpdate, m, st.text), st.fields
}

// delete 该层级的删除语句
func (a *adapter) delete(m *model.Model) (*Command, []*model.Field) {
	st := a.cached(m.Type.String()+"|delete", func() *statement {
		b := newBuilder(a.dialect, m)
		b.sb.WriteString("DELETE FROM ")
		b.writeIdent(m.TableName)
		b.sb.WriteString(" WHERE ")
		b.writeKeyPredicate(m)
		b.sb.WriteByte(';')
		return &statement{text: b.sb.String(), fields: m.PrimaryKeys}
	})
	return a.command(KindDelete, m, st.text), st.fields
}

// selectOne 该层级按主键取单行
func (a *adapter) selectOne(m *model.Model) (*Command, []*model.Field) {
	st := a.cached(m.Type.String()+"|select", func() *statement {
		b := newBuilder(a.dialect, m)
		b.sb.WriteString("SELECT ")
		for i, f := range m.Fields {
			if i > 0 {
				b.sb.WriteByte(',')
			}
			b.writeIdent(f.ColName)
			if f.Alias != "" {
				b.sb.WriteString(" AS ")
				b.writeIdent(f.Alias)
			}
		}
		b.sb.WriteString(" FROM ")
		b.writeTableRef(m)
		b.sb.WriteString(" WHERE ")
		b.writeKeyPredicate(m)
		b.sb.WriteByte(';')
		return &statement{text: b.sb.String(), fields: m.PrimaryKeys}
	})
	return a.command(KindSelect, m, st.text), st.fields
}

// exists 该层级的存在性探测
func (a *adapter) exists(m *model.Model) (*Command, []*model.Field) {
	st := a.cached(m.Type.String()+"|exists", func() *statement {
		b := newBuilder(a.dialect, m)
		b.sb.WriteString("SELECT EXISTS(SELECT 1 FROM ")
		b.writeIdent(m.TableName)
		b.sb.WriteString(" WHERE ")
		b.writeKeyPredicate(m)
		b.sb.WriteString(");")
		return &statement{text: b.sb.String(), fields: m.PrimaryKeys}
	})
	return a.command(KindExists, m, st.text), st.fields
}

// unique 唯一性探测：是否存在其它行持有同样的列值
// excludeKey 为 true 时把实体自身的主键排除掉
func (a *adapter) unique(m *model.Model, fd *model.Field, excludeKey bool) (*Command, []*model.Field) {
	key := fmt.Sprintf("%s|unique|%s|%t", m.Type.String(), fd.ColName, excludeKey)
	st := a.cached(key, func() *statement {
		b := newBuilder(a.dialect, m)
		b.sb.WriteString("SELECT EXISTS(SELECT 1 FROM ")
		b.writeIdent(m.TableName)
		b.sb.WriteString(" WHERE ")
		b.writeIdent(fd.ColName)
		b.sb.WriteString(" = ?")
		fields := []*model.Field{fd}
		if excludeKey {
			b.sb.WriteString(" AND NOT (")
			b.writeKeyPredicate(m)
			b.sb.WriteByte(')')
			fields = append(fields, m.PrimaryKeys...)
		}
		b.sb.WriteString(");")
		return &statement{text: b.sb.String(), fields: fields}
	})
	return a.command(KindUnique, m, st.text), st.fields
}

// selectKeys 集合的增量加载：只取叶层级的主键列
// 带谓词时参数值内嵌在返回的 args 里，不走缓存
func (a *adapter) selectKeys(m *model.Model, where []Predicate) (*Command, []any, error) {
	b := newBuilder(a.dialect, m)
	b.sb.WriteString("SELECT ")
	for i, f := range m.PrimaryKeys {
		if i > 0 {
			b.sb.WriteByte(',')
		}
		b.writeIdent(f.ColName)
	}
	b.sb.WriteString(" FROM ")
	b.writeTableRef(m)
	if len(where) > 0 {
		b.sb.WriteString(" WHERE ")
		if err := b.buildPredicates(where); err != nil {
			return nil, nil, err
		}
	}
	a.writeLimit(b)
	b.sb.WriteByte(';')
	return a.command(KindSelectMany, m, b.sb.String()), b.args, nil
}

// selectChain 集合的批量加载：一次血缘连接取回全部声明列
// levels 的前 baseLen 个是声明链，内连接；其余是派生层级，左连接，
// 每行的具体类型由最深的主键列非 NULL 的层级判定
// parents[j] 是 levels[j] 的父层级下标，根层级为 -1
// 返回的列顺序与 levels 各层级的 Fields 声明顺序一致，绑定按位置进行
func (a *adapter) selectChain(levels []*model.Model, baseLen int, parents []int, where []Predicate) (*Command, []any, error) {
	leaf := levels[baseLen-1]
	b := newBuilder(a.dialect, levels...)

	b.sb.WriteString("SELECT ")
	first := true
	for _, m := range levels {
		for _, f := range m.Fields {
			if !first {
				b.sb.WriteByte(',')
			}
			first = false
			b.writeQualified(m, f)
		}
	}

	b.sb.WriteString(" FROM ")
	b.writeTableRef(levels[0])
	for i := 1; i < len(levels); i++ {
		parent, child := levels[parents[i]], levels[i]
		if i < baseLen {
			b.sb.WriteString(" JOIN ")
		} else {
			b.sb.WriteString(" LEFT JOIN ")
		}
		b.writeTableRef(child)
		b.sb.WriteString(" ON ")
		// 相邻层级按主键位置相等连接
		n := len(parent.PrimaryKeys)
		if len(child.PrimaryKeys) < n {
			n = len(child.PrimaryKeys)
		}
		for k := 0; k < n; k++ {
			if k > 0 {
				b.sb.WriteString(" AND ")
			}
			b.writeQualified(parent, parent.PrimaryKeys[k])
			b.sb.WriteString(" = ")
			b.writeQualified(child, child.PrimaryKeys[k])
		}
	}

	if len(where) > 0 {
		b.sb.WriteString(" WHERE ")
		if err := b.buildPredicates(where); err != nil {
			return nil, nil, err
		}
	}
	a.writeLimit(b)
	b.sb.WriteByte(';')

	cmd := a.command(KindSelectMany, leaf, b.sb.String())
	for _, m := range levels {
		if m.DirtyReads {
			cmd.DirtyReads = true
		}
	}
	return cmd, b.args, nil
}

func (a *adapter) writeLimit(b *builder) {
	if a.settings.EnableReadLimit && a.settings.ReadLimit > 0 {
		b.sb.WriteString(" LIMIT ?")
		b.addArgs(a.settings.ReadLimit)
	}
}

// builder 拼接一条语句
// select delete update insert 都会用到
type builder struct {
	sb    strings.Builder
	args  []any
	quote byte
	// chain 谓词里的属性名在这些层级上解析，靠叶子的优先
	chain []*model.Model
}

func newBuilder(d Dialect, chain ...*model.Model) *builder {
	return &builder{
		quote: d.quoter(),
		chain: chain,
	}
}

// writeIdent 按 encapsulate 声明决定是否加引用符
// 多层级语句里只要有一个层级要求就全部引用，避免混拼
func (b *builder) writeIdent(name string) {
	encapsulate := false
	for _, m := range b.chain {
		if m.Encapsulate {
			encapsulate = true
			break
		}
	}
	if encapsulate {
		b.sb.WriteByte(b.quote)
		b.sb.WriteString(name)
		b.sb.WriteByte(b.quote)
		return
	}
	b.sb.WriteString(name)
}

// writeTableRef 表名，use_alias 打开时带 AS 别名
func (b *builder) writeTableRef(m *model.Model) {
	b.writeIdent(m.TableName)
	if m.UseAlias && m.TableAlias != "" {
		b.sb.WriteString(" AS ")
		b.writeIdent(m.TableAlias)
	}
}

// qualifier 限定名：打开 use_alias 时用别名，否则用表名
func (b *builder) qualifier(m *model.Model) string {
	if m.UseAlias && m.TableAlias != "" {
		return m.TableAlias
	}
	return m.TableName
}

// writeQualified 多层级语句里的列一律加限定名，同名主键列不加会歧义
func (b *builder) writeQualified(m *model.Model, f *model.Field) {
	b.writeIdent(b.qualifier(m))
	b.sb.WriteByte('.')
	b.writeIdent(f.ColName)
}

// writeKeyPredicate 主键等值条件，复合主键按 compositeOrder 连接
func (b *builder) writeKeyPredicate(m *model.Model) {
	for i, f := range m.PrimaryKeys {
		if i > 0 {
			b.sb.WriteString(" AND ")
		}
		b.writeIdent(f.ColName)
		b.sb.WriteString(" = ?")
	}
}

// buildPredicates builds the WHERE part for the given list of predicates.
func (b *builder) buildPredicates(ps []Predicate) error {
	p := ps[0]
	for i := 1; i < len(ps); i++ {
		p = p.And(ps[i])
	}
	return b.buildExpression(p)
}

// buildExpression 递归构造表达式
// Column 拼列名，value 追加参数，Predicate 两侧有复杂结构时加括号
func (b *builder) buildExpression(e Expression) error {
	if e == nil {
		return nil
	}

	switch expr := e.(type) {
	case Column:
		m, fd, err := b.resolveField(expr.name)
		if err != nil {
			return err
		}
		if len(b.chain) > 1 {
			b.writeQualified(m, fd)
		} else {
			b.writeIdent(fd.ColName)
		}
	case value:
		b.sb.WriteByte('?')
		b.addArgs(expr.val)
	case RawExpr:
		b.sb.WriteString(expr.raw)
		if len(expr.args) != 0 {
			b.addArgs(expr.args...)
		}
	case Predicate:
		_, lp := expr.left.(Predicate)
		if lp {
			b.sb.WriteByte('(')
		}
		if err := b.buildExpression(expr.left); err != nil {
			return err
		}
		if lp {
			b.sb.WriteByte(')')
		}

		if expr.op == "" {
			return nil
		}

		b.sb.WriteByte(' ')
		b.sb.WriteString(expr.op.String())
		b.sb.WriteByte(' ')

		_, rp := expr.right.(Predicate)
		if rp {
			b.sb.WriteByte('(')
		}
		if err := b.buildExpression(expr.right); err != nil {
			return err
		}
		if rp {
			b.sb.WriteByte(')')
		}
	default:
		return errs.NewErrUnsupportedExpressionType(expr)
	}

	return nil
}

// resolveField 属性名在链上解析，靠叶子的层级优先
func (b *builder) resolveField(name string) (*model.Model, *model.Field, error) {
	for i := len(b.chain) - 1; i >= 0; i-- {
		if fd, ok := b.chain[i].FieldMap[name]; ok {
			return b.chain[i], fd, nil
		}
	}
	return nil, nil, errs.NewErrUnknownField(name)
}

func (b *builder) addArgs(args ...any) {
	if b.args == nil {
		b.args = make([]any, 0, 8)
	}
	b.args = append(b.args, args...)
}
