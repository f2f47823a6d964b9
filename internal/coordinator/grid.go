package coordinator

// Grid 触摸屏按钮布局：Columns 列 × Rows 行，索引 = row*Columns + col
type Grid struct {
	Columns    int `json:"columns"`
	Rows       int `json:"rows"`
	CellWidth  int `json:"cell_width"`
	CellHeight int `json:"cell_height"`
}

// DefaultGrid 320×480 屏幕上 2×5 个 160×96 按钮
func DefaultGrid() Grid {
	return Grid{Columns: 2, Rows: 5, CellWidth: 160, CellHeight: 96}
}

// Locate 屏幕坐标映射到节点索引。落在格线上的点不命中。
func (g Grid) Locate(x, y int) (int, bool) {
	if g.Columns <= 0 || g.Rows <= 0 || g.CellWidth <= 0 || g.CellHeight <= 0 {
		return 0, false
	}
	if x <= 0 || y <= 0 {
		return 0, false
	}
	col, cx := x/g.CellWidth, x%g.CellWidth
	row, cy := y/g.CellHeight, y%g.CellHeight
	if cx == 0 || cy == 0 || col >= g.Columns || row >= g.Rows {
		return 0, false
	}
	return row*g.Columns + col, true
}

// Cell 索引对应的左上角
func (g Grid) Cell(index int) (x, y int) {
	return (index % g.Columns) * g.CellWidth, (index / g.Columns) * g.CellHeight
}
