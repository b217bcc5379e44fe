package extract

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every extraction call.
const SystemPrompt = "Vous êtes le meilleur analyseur de devis du monde. Vous devez reconstruire le devis à partir d'un texte brut. " +
	"Pour chaque produit du devis, notez très précisément son label, sa description, le lot auquel il appartient, " +
	"son prix HT unitaire, la quantité, l'unité, la TVA et les éventuels coûts supplémentaires (éco-participation). " +
	"Les produits peuvent être groupés par catégories et contenir des sous-produits imbriqués. " +
	"1 - Trouvez la structure exacte de chaque catégorie du devis. " +
	"2 - Vérifiez que le prix total d'une catégorie correspond au prix des produits qu'elle contient. " +
	"3 - Respectez la structure originale du devis, ne fusionnez pas de lignes. " +
	"4 - Ne comptez pas un changement de page comme une nouvelle section. " +
	"5 - N'inventez aucune ligne."

// ExtractionPrompt describes the expected answer shape.
const ExtractionPrompt = `Reconstruisez les lignes du devis contenues dans l'extrait ci-dessous. Répondez avec un objet JSON de la forme :

{
  "devis_produits": [ <produit>, ... ],
  "devis_total_ht": <nombre ou null>,
  "devis_total_tva": <nombre ou null>,
  "devis_total_ttc": <nombre ou null>,
  "devis_eco_participation": <nombre ou null>
}

Chaque <produit> est un objet avec :
- "label": intitulé court de la ligne (chaîne)
- "description": texte descriptif complet (chaîne, "" si absent)
- "quantite": quantité (nombre, 1 si non précisée)
- "unitee_quantite": unité (chaîne comme "m2", "u", "ml", "forfait", ou null)
- "price_unitaire_ht": prix unitaire hors taxe (nombre)
- "tva": l'un de "TVA 20%", "TVA 10%", "TVA 5.5%", "TVA 2.1%", "TVA 0%"
- "eco_participation": montant de l'éco-participation (nombre ou null)
- "sous_produits": liste de produits imbriqués ([] si aucun)
- "lot": lot ou catégorie de rattachement (chaîne, "" si absent)

Règles :
- Les montants sont des nombres JSON avec un point décimal, sans symbole monétaire ni séparateur de milliers
- Une catégorie qui regroupe des lignes est un produit dont "sous_produits" contient ces lignes ; son prix unitaire est le total annoncé de la catégorie, avec une quantité de 1, ou 0 si aucun total n'est annoncé
- Les totaux du devis ne figurent que s'ils apparaissent dans l'extrait, sinon null
- Si l'extrait ne contient aucune ligne, renvoyez "devis_produits": []

Répondez UNIQUEMENT avec l'objet JSON, sans autre texte.`

// BuildChunkPrompt creates the full prompt for one chunk, including the quote
// title, the section breadcrumb and the pages it covers.
func BuildChunkPrompt(docTitle string, breadcrumb []string, chunkText string, pageStart, pageEnd int) string {
	var sb strings.Builder
	sb.WriteString(ExtractionPrompt)
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "Devis : %q\n", docTitle)
	if len(breadcrumb) > 0 {
		sb.WriteString("Section : ")
		sb.WriteString(strings.Join(breadcrumb, " > "))
		sb.WriteString("\n")
	}
	switch {
	case pageStart > 0 && pageEnd > pageStart:
		fmt.Fprintf(&sb, "Pages : %d-%d\n", pageStart, pageEnd)
	case pageStart > 0:
		fmt.Fprintf(&sb, "Page : %d\n", pageStart)
	}
	sb.WriteString("---\n")
	sb.WriteString(chunkText)
	return sb.String()
}

// BuildCorrectionPrompt lists the inconsistencies of a previous answer and
// asks for a corrected one.
func BuildCorrectionPrompt(report Report) string {
	var sb strings.Builder
	sb.WriteString("Votre reconstruction présente des incohérences de prix :\n")
	for _, e := range report.Errors {
		sb.WriteString("- ")
		sb.WriteString(e.Log)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRelisez l'extrait, corrigez la structure ou les montants mal lus et renvoyez l'objet JSON complet corrigé. ")
	sb.WriteString("Ne modifiez pas les montants qui figurent réellement dans le devis. Répondez UNIQUEMENT avec l'objet JSON.")
	return sb.String()
}
