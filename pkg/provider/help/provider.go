// Package help defines the Provider interface for the FAQ assistant that
// answers questions about how to use the application.
package help

import "context"

// Provider answers a single help question. Implementations are stateless and
// safe for concurrent use.
type Provider interface {
	Ask(ctx context.Context, question string) (string, error)
}

// FallbackAnswer is shown to the user when the backend cannot be reached.
const FallbackAnswer = "Lo siento, no puedo responder en este momento. Por favor, intenta de nuevo."

// Suggestions are the frequently asked questions offered as shortcuts.
var Suggestions = []string{
	"¿Cómo creo una nueva imagen?",
	"¿Cómo edito una imagen existente?",
	"¿Cómo hablo con el asistente de voz?",
}

// Instruction is the role given to the help model.
const Instruction = "Eres un bot de ayuda para una aplicación de creación de imágenes para personas " +
	"con discapacidad visual. Responde de manera concisa y clara a las preguntas sobre cómo usar la aplicación."

// Manual describes the application's features. It is appended to
// [Instruction] as grounding context.
const Manual = `# MANUAL DE LA APLICACIÓN: ASISTENTE CREATIVO DE IMÁGENES

## Resumen General
Esta aplicación permite crear, editar y explorar imágenes usando inteligencia artificial,
manteniendo una conversación de voz con un asistente creativo.

## 1. Conversación de voz
- Al iniciar la conversación el asistente escucha el micrófono de forma continua.
- El usuario puede pedir una imagen hablando, por ejemplo: "Dibuja un perro con gafas de sol en una playa".
- Se puede indicar el formato: cuadrado (1:1), paisaje (16:9), retrato (9:16), clásico (4:3) o vertical (3:4).
- Si el usuario habla mientras el asistente responde, el asistente se detiene y escucha.
- La transcripción muestra lo que dijo el usuario ("Tú:") y lo que respondió el asistente ("Asistente:").
- Al terminar la conversación se liberan el micrófono y los altavoces.

## 2. Crear
- Genera una imagen nueva a partir de una descripción de texto y un formato.

## 3. Editar
- Modifica una imagen existente siguiendo una instrucción, por ejemplo: "Cambia el color del cielo a naranja".

## 4. Explorar
- Describe en detalle una imagen: objetos, colores, composición y texto visible.

## 5. Ayuda
- Este chat responde dudas sobre CÓMO USAR la aplicación usando este manual.
`

// SystemInstruction returns the full system prompt for the help model.
func SystemInstruction() string {
	return Instruction + "\n\n" + Manual
}
