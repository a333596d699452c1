package menuguard

import (
	"time"

	"github.com/google/uuid"

	"github.com/zinacoffee/menuguard/storage"
)

// defaultMenuEntry is one item of the house menu
type defaultMenuEntry struct {
	category, categoryAr, nameFr, nameAr, price string
}

var defaultMenu = []defaultMenuEntry{
	{"Cafés", "القهوة", "Express / Demi / Allongé", "إكسبريسو / دمي / ألونجي", "2.5"},
	{"Cafés", "القهوة", "Cappuccino / Americano", "كابوتشينو / أمريكانو", "2.8"},
	{"Cafés", "القهوة", "Direct", "قهوة ديريكت", "3.2"},
	{"Cafés", "القهوة", "Spécial", "قهوة خاصة (سبسيال)", "3.5"},
	{"Boissons Fraîches", "مشروبات باردة", "Jus Frais", "عصير طازج", "4"},
	{"Boissons Fraîches", "مشروبات باردة", "Citronnade", "ليموناضة", "3"},
	{"Boissons Fraîches", "مشروبات باردة", "Citronnade Amande", "ليموناضة باللوز", "5"},
	{"Boissons Fraîches", "مشروبات باردة", "Mojito", "موهيتو", "6"},
	{"Viennoiseries", "مخبوزات", "Snoopy / Croissant", "سنوبي / كرواسون", "2.5"},
	{"Viennoiseries", "مخبوزات", "Pâté", "باتي", "2"},
	{"Thé", "الشاي", "Thé", "شاي", "2"},
	{"Thé", "الشاي", "Thé Amande", "شاي باللوز", "4"},
	{"Chicha & Girac", "شيشة وجيراك", "Chicha Menthe", "شيشة نعناع", "4"},
	{"Chicha & Girac", "شيشة وجيراك", "Chicha Cocktail", "شيشة كوكتيل", "4.5"},
	{"Chicha & Girac", "شيشة وجيراك", "Chicha Vide", "شيشة فارغة", "3"},
	{"Chicha & Girac", "شيشة وجيراك", "Girac (M)", "جيراك (M)", "3.5"},
	{"Chicha & Girac", "شيشة وجيراك", "Girac (XL)", "جيراك (XL)", "4.5"},
	{"Chicha & Girac", "شيشة وجيراك", "Girac (XXL)", "جيراك (XXL)", "5.5"},
	{"Eaux & Soft", "مياه ومشروبات غازية", "Eau 1.5 L", "ماء 1.5 ل", "2"},
	{"Eaux & Soft", "مياه ومشروبات غازية", "Eau 0.5 L", "ماء 0.5 ل", "1"},
	{"Eaux & Soft", "مياه ومشروبات غازية", "Canette", "كانات", "2.5"},
}

// DefaultMenuItems returns fresh copies of the house menu, stamped with now
// and attributed to createdBy. Prices are kept as strings the way the
// storefront displays them.
func DefaultMenuItems(now time.Time, createdBy string) []*storage.MenuItem {
	items := make([]*storage.MenuItem, 0, len(defaultMenu))
	for _, e := range defaultMenu {
		items = append(items, &storage.MenuItem{
			ID: uuid.NewString(),
			Fields: map[string]any{
				"category":   e.category,
				"categoryAr": e.categoryAr,
				"nameFr":     e.nameFr,
				"nameAr":     e.nameAr,
				"price":      e.price,
			},
			CreatedBy: createdBy,
			CreatedAt: now,
			UpdatedBy: createdBy,
			UpdatedAt: now,
		})
	}
	return items
}
