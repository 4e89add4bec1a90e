package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-cost/internal/cost/entity"
	"github.com/bitfantasy/nimo-cost/internal/cost/repository"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
)

// OrphanGroupID 孤儿分部合成分组的固定id
const OrphanGroupID = "__unassigned__"

// 展开状态在redis中的保留时长
const expansionTTL = 24 * time.Hour

// ProjectionRow 汇总视图中的一行（结构或分部）
type ProjectionRow struct {
	ID             string  `json:"id"`
	ParentID       string  `json:"parent_id,omitempty"`
	Name           string  `json:"name"`
	Level          int     `json:"level"` // 0=结构 1=分部
	EstimateAmount float64 `json:"estimate_amount"`

	PaidBills     float64 `json:"paid_bills"`
	PendingBills  float64 `json:"pending_bills"`
	ExternalBills float64 `json:"external_bills"`
	Wages         float64 `json:"wages"`
	Actual        float64 `json:"actual"`
	Difference    float64 `json:"difference"`

	HasChildren bool             `json:"has_children"`
	Children    []*ProjectionRow `json:"children,omitempty"`
}

// Projection 一个项目的分组汇总视图
//
// 只含分组树本身；项目级合计一律读ProjectSummary缓存行，
// 不从树上重新求和（见summary service）。
type Projection struct {
	ProjectID  string           `json:"project_id"`
	Structures []*ProjectionRow `json:"structures"`
}

// SummaryProjector 汇总视图投影器
//
// 把概算结构/分部与成本控制节点的累加器合并成分组树。底层数据
// 可能含脏数据（重名结构、重复分部、孤儿分部），投影是读时
// 自愈的：去重、孤儿归入合成分组，不回写数据库。
type SummaryProjector struct {
	estimateRepo *repository.EstimateRepository
	nodeRepo     *repository.NodeRepository
	rdb          *redis.Client
}

func NewSummaryProjector(repos *repository.Repositories, rdb *redis.Client) *SummaryProjector {
	return &SummaryProjector{
		estimateRepo: repos.Estimate,
		nodeRepo:     repos.Node,
		rdb:          rdb,
	}
}

// BuildProjection 构建一个项目的分组汇总视图
func (p *SummaryProjector) BuildProjection(ctx context.Context, projectID string) (*Projection, error) {
	structures, err := p.estimateRepo.FindStructures(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("加载概算结构失败: %w", err)
	}
	elements, err := p.estimateRepo.FindElements(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("加载概算分部失败: %w", err)
	}
	nodes, err := p.nodeRepo.FindByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("加载成本节点失败: %w", err)
	}

	return AssembleProjection(projectID, structures, elements, nodes), nil
}

// AssembleProjection 纯内存组装，数据已加载后不再访问存储
func AssembleProjection(projectID string, structures []entity.BudgetStructure, elements []entity.BudgetElement, nodes []entity.BudgetNode) *Projection {
	nodeByID := make(map[string]*entity.BudgetNode, len(nodes))
	for i := range nodes {
		nodeByID[nodes[i].ID] = &nodes[i]
	}

	elements = dedupElements(elements)

	// 分部按结构分组，孤儿单独收集
	elemsByStructure := make(map[string][]entity.BudgetElement)
	var orphans []entity.BudgetElement
	for _, e := range elements {
		if e.StructureID == nil || *e.StructureID == "" {
			orphans = append(orphans, e)
			continue
		}
		elemsByStructure[*e.StructureID] = append(elemsByStructure[*e.StructureID], e)
	}

	structures = dedupStructures(structures, elemsByStructure)

	proj := &Projection{ProjectID: projectID}
	for _, s := range structures {
		row := buildStructureRow(s.ID, s.Name, s.Amount, elemsByStructure[s.ID], nodeByID)
		proj.Structures = append(proj.Structures, row)
	}

	if len(orphans) > 0 {
		var orphanTotal float64
		for _, e := range orphans {
			orphanTotal += e.Amount
		}
		row := buildStructureRow(OrphanGroupID, entity.UnassignedStructureName, orphanTotal, orphans, nodeByID)
		proj.Structures = append(proj.Structures, row)
	}
	return proj
}

func buildStructureRow(id, name string, amount float64, elems []entity.BudgetElement, nodeByID map[string]*entity.BudgetNode) *ProjectionRow {
	row := &ProjectionRow{
		ID:             id,
		Name:           name,
		Level:          0,
		EstimateAmount: amount,
		HasChildren:    len(elems) > 0,
	}
	mergeAccumulators(row, nodeByID[id])

	for _, e := range elems {
		child := &ProjectionRow{
			ID:             e.ID,
			ParentID:       id,
			Name:           e.Name,
			Level:          1,
			EstimateAmount: e.Amount,
		}
		mergeAccumulators(child, nodeByID[e.ID])
		row.Children = append(row.Children, child)
	}

	// 结构自身没有成本节点时，从子行向上求和
	if row.Actual == 0 && row.PendingBills == 0 && len(row.Children) > 0 {
		for _, c := range row.Children {
			row.PaidBills += c.PaidBills
			row.PendingBills += c.PendingBills
			row.ExternalBills += c.ExternalBills
			row.Wages += c.Wages
		}
		row.Actual = row.PaidBills + row.ExternalBills + row.Wages
		row.Difference = row.EstimateAmount - row.Actual
	}
	return row
}

// mergeAccumulators 概算行与同id成本节点的累加器合并
func mergeAccumulators(row *ProjectionRow, node *entity.BudgetNode) {
	if node != nil {
		row.PaidBills = node.PaidBills
		row.PendingBills = node.PendingBills
		row.ExternalBills = node.ExternalBills
		row.Wages = node.Wages
		row.Actual = node.Actual()
	}
	row.Difference = row.EstimateAmount - row.Actual
}

// dedupStructures 重名结构只保留分部数最多的一个（数量相同保留先出现的）
func dedupStructures(structures []entity.BudgetStructure, elemsByStructure map[string][]entity.BudgetElement) []entity.BudgetStructure {
	bestByName := make(map[string]int)
	for i, s := range structures {
		prev, ok := bestByName[s.Name]
		if !ok || len(elemsByStructure[s.ID]) > len(elemsByStructure[structures[prev].ID]) {
			bestByName[s.Name] = i
		}
	}

	keep := make(map[int]bool, len(bestByName))
	for _, i := range bestByName {
		keep[i] = true
	}

	result := make([]entity.BudgetStructure, 0, len(bestByName))
	for i, s := range structures {
		if keep[i] {
			result = append(result, s)
		}
	}
	return result
}

// dedupElements 先按id去重，再按结构内名称去重，均为后出现覆盖
func dedupElements(elements []entity.BudgetElement) []entity.BudgetElement {
	elements = dedupElementsBy(elements, func(e entity.BudgetElement) string { return e.ID })
	return dedupElementsBy(elements, elementNameKey)
}

func elementNameKey(e entity.BudgetElement) string {
	sid := ""
	if e.StructureID != nil {
		sid = *e.StructureID
	}
	return sid + "|" + e.Name
}

func dedupElementsBy(elements []entity.BudgetElement, key func(entity.BudgetElement) string) []entity.BudgetElement {
	last := make(map[string]int, len(elements))
	for i, e := range elements {
		last[key(e)] = i
	}

	result := make([]entity.BudgetElement, 0, len(last))
	for i, e := range elements {
		if last[key(e)] == i {
			result = append(result, e)
		}
	}
	return result
}

// ExpansionState 结构行展开状态，默认全收起
type ExpansionState struct {
	expanded map[string]bool
}

func NewExpansionState(expandedIDs []string) *ExpansionState {
	m := make(map[string]bool, len(expandedIDs))
	for _, id := range expandedIDs {
		m[id] = true
	}
	return &ExpansionState{expanded: m}
}

func (s *ExpansionState) IsExpanded(id string) bool {
	return s.expanded[id]
}

func expansionKey(projectID, userID string) string {
	return "cost:expansion:" + projectID + ":" + userID
}

// LoadExpansion 读取一个用户在一个项目下的展开状态
func (p *SummaryProjector) LoadExpansion(ctx context.Context, projectID, userID string) (*ExpansionState, error) {
	if p.rdb == nil {
		return NewExpansionState(nil), nil
	}
	ids, err := p.rdb.SMembers(ctx, expansionKey(projectID, userID)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return NewExpansionState(ids), nil
}

// SetExpanded 记录/清除一个结构行的展开状态
func (p *SummaryProjector) SetExpanded(ctx context.Context, projectID, userID, rowID string, expanded bool) error {
	if p.rdb == nil {
		return nil
	}
	key := expansionKey(projectID, userID)
	if expanded {
		if err := p.rdb.SAdd(ctx, key, rowID).Err(); err != nil {
			return err
		}
		return p.rdb.Expire(ctx, key, expansionTTL).Err()
	}
	return p.rdb.SRem(ctx, key, rowID).Err()
}

// FlatRow 扁平化后的一行，前端表格直接渲染
type FlatRow struct {
	ProjectionRow
	Depth    int  `json:"depth"`
	Expanded bool `json:"expanded"`
}

// Flatten 按展开状态先序展开为行列表；收起的结构不输出其子行
func Flatten(proj *Projection, state *ExpansionState) []FlatRow {
	rows := make([]FlatRow, 0, len(proj.Structures))
	for _, s := range proj.Structures {
		top := FlatRow{ProjectionRow: *s, Depth: 0, Expanded: state.IsExpanded(s.ID)}
		top.Children = nil
		rows = append(rows, top)

		if !state.IsExpanded(s.ID) {
			continue
		}
		for _, c := range s.Children {
			child := FlatRow{ProjectionRow: *c, Depth: 1}
			child.Children = nil
			rows = append(rows, child)
		}
	}
	return rows
}

var exportHeader = []string{
	"Name", "Original", "Actual", "Difference",
	"Paid Bills", "External Bills", "Pending Bills",
}

func exportRecord(row FlatRow) []string {
	indent := ""
	if row.Depth > 0 {
		indent = "  "
	}
	return []string{
		indent + row.Name,
		strconv.FormatFloat(row.EstimateAmount, 'f', 2, 64),
		strconv.FormatFloat(row.Actual, 'f', 2, 64),
		strconv.FormatFloat(row.Difference, 'f', 2, 64),
		strconv.FormatFloat(row.PaidBills, 'f', 2, 64),
		strconv.FormatFloat(row.ExternalBills, 'f', 2, 64),
		strconv.FormatFloat(row.PendingBills, 'f', 2, 64),
	}
}

// renderProjectionCSV 按展开状态输出可见行，收起的结构不含子行
func renderProjectionCSV(proj *Projection, state *ExpansionState) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, row := range Flatten(proj, state) {
		if err := w.Write(exportRecord(row)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportCSV 汇总视图导出为CSV，行集合跟随调用方的展开状态
func (p *SummaryProjector) ExportCSV(ctx context.Context, projectID string, state *ExpansionState) ([]byte, error) {
	proj, err := p.BuildProjection(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return renderProjectionCSV(proj, state)
}

// ExportExcel 汇总视图导出为xlsx，行集合跟随调用方的展开状态
func (p *SummaryProjector) ExportExcel(ctx context.Context, projectID string, state *ExpansionState) (*excelize.File, error) {
	proj, err := p.BuildProjection(ctx, projectID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := "Summary"
	f.SetSheetName("Sheet1", sheet)

	for col, h := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for i, row := range Flatten(proj, state) {
		record := exportRecord(row)
		for col, v := range record {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if col >= 1 {
				num, _ := strconv.ParseFloat(v, 64)
				f.SetCellValue(sheet, cell, num)
			} else {
				f.SetCellValue(sheet, cell, v)
			}
		}
	}

	f.SetColWidth(sheet, "A", "A", 36)
	return f, nil
}
