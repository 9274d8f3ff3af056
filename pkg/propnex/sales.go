package propnex

import "reflect"

// overlay copies every non-null field of top onto s.
func (s Sale) overlay(top Sale) Sale {
	dst := reflect.ValueOf(&s).Elem()
	src := reflect.ValueOf(top)
	for i := range dst.NumField() {
		if v, ok := src.Field(i).Interface().(Scalar); ok && v.Valid() {
			dst.Field(i).Set(src.Field(i))
		}
	}
	return s
}

// CombinedSales merges profitSales and lossSales into sales by saleId.
// The categorized lists carry the resale economics, so their non-null
// fields win. Rows without a saleId are ignored; order follows first
// appearance.
func (r *ProjectResponse) CombinedSales() []Sale {
	byID := make(map[int64]int)
	var out []Sale

	add := func(s Sale) {
		id, ok := s.SaleID.Int()
		if !ok {
			return
		}
		if i, seen := byID[id]; seen {
			out[i] = out[i].overlay(s)
			return
		}
		byID[id] = len(out)
		out = append(out, s)
	}

	for _, s := range r.Sales {
		add(s)
	}
	for _, s := range r.ProfitSales {
		add(s)
	}
	for _, s := range r.LossSales {
		add(s)
	}
	return out
}
